package ingest

// Source extracts. Both operational databases share the Orders and
// OrderGoods layouts; shops and members differ per database.
// OrderGoods.orderId refers to Orders.id of the same database.

const ordersQuery = `
SELECT id, orderNo, shopId, openId, total, payState, payMode, success_time, recordTime
FROM Orders
WHERE delflag = 0
  AND total > 0 AND total < 10000
  AND success_time IS NOT NULL`

const orderItemsQuery = `
SELECT orderId, goodsId, goodsNumber, goodsPrice, goodsTotal, recordTime
FROM OrderGoods
WHERE delflag = 0
  AND goodsNumber > 0
  AND goodsPrice > 0`

const shopQuery = `
SELECT Id, ShopName, province, city, district, ShopAddress, rent, area,
       isClose, isSelf, lng, lat, openingTime, establishTime, recordTime
FROM Shop
WHERE delflag = 0`

const rgShopQuery = `
SELECT Id, ShopName, Province AS province, City AS city, District AS district,
       ShopAddress, Rent AS rent, Area AS area, IsClose AS isClose, IsSelf AS isSelf,
       Longitude AS lng, Latitude AS lat, OpeningTime AS openingTime,
       EstablishTime AS establishTime, RecordTime AS recordTime
FROM Rg_Shop
WHERE Delflag = 0`

const goodsQuery = `
SELECT id, goodsName, categoryId, salePrice, marketPrice, costPrice, stock,
       isSale, isHot, isRecom
FROM Goods
WHERE delflag = 0`

const cardVipQuery = `
SELECT vipTel AS phone, vipName AS name, vipSex AS gender, vipBirthday AS birthday,
       vipScore AS score, vipMoney AS balance, openId AS openid
FROM CardVip
WHERE delflag = 0`

const xcxUserQuery = `
SELECT phone, nickName AS name, gender, birthday, score, balance, openId AS openid
FROM XcxUser
WHERE delflag = 0`
