package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/socialrelay/socialrelay/internal/core"
)

// Notifications renders a user's notifications, newest first.
func Notifications(format Format, list []core.Notification) (string, error) {
	if list == nil {
		list = []core.Notification{}
	}
	rows := make([]table.Row, 0, len(list))
	unread := 0
	for _, n := range list {
		read := "yes"
		if !n.IsRead {
			read = "no"
			unread++
		}
		rows = append(rows, table.Row{n.ID, n.CreatedAt.Format(timeLayout), n.Type, n.Title, read})
	}
	return grid{
		header: table.Row{"ID", "Created", "Type", "Title", "Read"},
		rows:   rows,
		footer: table.Row{"", "", "", fmt.Sprintf("%d unread", unread), ""},
		raw:    list,
	}.render(format)
}
