package util

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// ParseIDParam 解析路径中的数字 ID，失败时写入 400 响应并返回 false
func ParseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}
