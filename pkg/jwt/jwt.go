package jwt

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"time"

	"alertflow/conf"
	"alertflow/pkg/cache"
	"alertflow/pkg/logger"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cast"
)

type CustomClaims struct {
	UserId string `json:"user_id"`
	jwt.RegisteredClaims
}

func BuildClaims(exp time.Time, uid string) *CustomClaims {
	return &CustomClaims{
		UserId: uid,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    conf.AppConfig.AppName,
		},
	}
}

func GenToken(c *CustomClaims, secretKey string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	ss, err := token.SignedString([]byte(secretKey))
	return ss, err
}

// 解析jwt token
func ParseToken(jwtStr, secretKey string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(jwtStr, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secretKey), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, err
	} else {
		return nil, err
	}
}

func getBlackListKey(token string) string {
	sum := md5.Sum([]byte(token))
	return "jwt_black_list:" + hex.EncodeToString(sum[:])
}

// JoinBlackList token登出后进黑名单，有效期与token剩余时间一致
func JoinBlackList(ctx context.Context, tokenStr string, secretKey string) (err error) {
	claims, err := ParseToken(tokenStr, secretKey)
	if err != nil {
		return err
	}
	nowUnix := time.Now().Unix()
	timer := time.Duration(claims.ExpiresAt.Unix()-nowUnix) * time.Second
	rc := cache.GetRedisClient()
	err = rc.SetNX(ctx, getBlackListKey(tokenStr), nowUnix, timer).Err()
	return
}

func IsInBlackList(ctx context.Context, token string) bool {
	rc := cache.GetRedisClient()
	joinUnixStr, err := rc.Get(ctx, getBlackListKey(token)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Errorf("Redis连接异常:%v", err.Error())
		}
		return false
	}
	joinUnix := cast.ToInt64(joinUnixStr)
	if time.Now().Unix()-joinUnix < conf.AppConfig.Jwt.JwtBlacklistGracePeriod {
		return false
	}
	return true
}
