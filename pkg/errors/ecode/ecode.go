package ecode

// 业务错误码，0表示成功
const (
	Success = 0

	Unknown        = 10001
	ValidateErr    = 10002
	NotFoundErr    = 10003
	RequireAuthErr = 10004
	DbErr          = 10005
	ThrottledErr   = 10006
	DeliveryErr    = 10007
)

var messages = map[int]string{
	Success:        "success",
	Unknown:        "unknown error",
	ValidateErr:    "invalid parameter",
	NotFoundErr:    "record not found",
	RequireAuthErr: "authentication required",
	DbErr:          "storage unavailable",
	ThrottledErr:   "delivery throttled",
	DeliveryErr:    "delivery failed",
}

// Text 返回错误码的缺省文案
func Text(code int) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return messages[Unknown]
}
