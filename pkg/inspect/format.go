package inspect

import (
	"fmt"
	"strings"

	"github.com/pario-ai/tablecache/pkg/models"
)

func formatStatus(st models.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Instance:   %s\n", st.Instance)
	fmt.Fprintf(&b, "Version:    %s\n", st.Version)
	fmt.Fprintf(&b, "Phase:      %s\n", st.Phase)
	fmt.Fprintf(&b, "Origin:     %s\n", st.Origin)
	fmt.Fprintf(&b, "Clients:    %d attached, %d controlled\n", st.Attached, st.Controlled)
	fmt.Fprintf(&b, "Writes:     %d queued, %d written, %d dropped, %d failed\n",
		st.Writer.Queued, st.Writer.Written, st.Writer.Dropped, st.Writer.Failed)
	return b.String()
}

func formatStores(infos []models.StoreInfo) string {
	if len(infos) == 0 {
		return "No cache stores."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-32s %8s %12s %8s\n", "Store", "Entries", "Bytes", "Current")
	b.WriteString(strings.Repeat("-", 63) + "\n")
	for _, info := range infos {
		current := ""
		if info.Current {
			current = "*"
		}
		fmt.Fprintf(&b, "%-32s %8d %12d %8s\n", info.Name, info.Entries, info.Bytes, current)
	}
	return b.String()
}

func formatKeys(name string, keys []string) string {
	if len(keys) == 0 {
		return fmt.Sprintf("Store %s is empty.", name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Store %s (%d entries)\n", name, len(keys))
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('\n')
	}
	return b.String()
}
