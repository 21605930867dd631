package config

import (
	"fmt"
	"strings"
)

// controlOrder fixes the emitted field order; only present keys are written.
var controlOrder = []string{
	"package", "id", "name", "version", "architecture", "author", "maintainer",
	"description", "section", "depends", "conflicts", "replaces", "provides",
	"priority", "size", "installed-size", "icon", "depiction", "sileodepiction",
	"tag", "tags",
}

// controlField maps a config key to its package-metadata field name. Keys not
// listed are title-cased as-is.
var controlField = map[string]string{
	"id":             "Package",
	"installed-size": "Installed-Size",
	"sileodepiction": "SileoDepiction",
}

// ControlText renders the [control] table as package metadata. Setting only
// one of author/maintainer fills in the other, since repositories want both.
func ControlText(control map[string]any) string {
	var sb strings.Builder

	_, hasAuthor := control["author"]
	_, hasMaintainer := control["maintainer"]

	for _, key := range controlOrder {
		raw, ok := control[key]
		if !ok {
			continue
		}
		value := fmt.Sprintf("%v", raw)

		switch {
		case key == "author" && !hasMaintainer:
			fmt.Fprintf(&sb, "Author: %s\nMaintainer: %s\n", value, value)
		case key == "maintainer" && !hasAuthor:
			fmt.Fprintf(&sb, "Author: %s\nMaintainer: %s\n", value, value)
		default:
			field, ok := controlField[key]
			if !ok {
				field = strings.ToUpper(key[:1]) + key[1:]
			}
			fmt.Fprintf(&sb, "%s: %s\n", field, value)
		}
	}

	return sb.String()
}
