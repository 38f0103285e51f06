package console

import (
	"fmt"
	"time"

	"github.com/gosuri/uitable"

	"github.com/robotsgofarming/abls/internal/module/protocol"
)

// RenderStatus formats a status packet for the terminal.
func RenderStatus(p protocol.StatusPacket) string {
	table := uitable.New()
	table.MaxColWidth = 100

	table.AddRow("MODULE:", fmt.Sprintf("%d", p.SenderID))
	table.AddRow("STATUS:", p.Status)
	table.AddRow("VERSION:", p.Version)
	table.AddRow("UPTIME:", (time.Duration(p.UptimeSeconds) * time.Second).String())
	table.AddRow("FREE MEMORY:", fmt.Sprintf("%d bytes", p.FreeMemory))
	if p.UpdateStage != "" {
		table.AddRow("UPDATE STAGE:", p.UpdateStage)
		table.AddRow("PROGRESS:", fmt.Sprintf("%d%%", p.UpdateProgress))
	}
	if p.LastError != "" {
		table.AddRow("LAST ERROR:", p.LastError)
	}
	table.AddRow("TRAFFIC:", fmt.Sprintf("sent %d, received %d", p.PacketsSent, p.PacketsReceived))

	return table.String()
}
