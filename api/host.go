package api

import (
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// hostStatus reports basic health of the enforcing host. Missing values are
// omitted.
func hostStatus() gin.H {
	out := gin.H{}
	if info, err := host.Info(); err == nil && info != nil {
		out["hostname"] = info.Hostname
		out["platform"] = info.Platform
		out["uptime_seconds"] = info.Uptime
	}
	if m, err := mem.VirtualMemory(); err == nil && m != nil {
		out["memory_used_percent"] = m.UsedPercent
	}
	return out
}
