// Package commandmap maps detector class labels to actuator commands.
package commandmap

import (
	"sort"

	"github.com/samber/lo"

	"github.com/Capitan-Parrot/waste-sorter/internal/models"
)

// Map is a static label -> command table. Adding a class is one entry.
type Map map[string]models.Command

// Default holds the four waste classes the sorting bins understand.
var Default = Map{
	"可回收物": models.CommandRecyclable, // recyclable
	"有害垃圾": models.CommandHazardous,  // hazardous
	"厨余垃圾": models.CommandKitchen,    // kitchen
	"其他垃圾": models.CommandOther,      // other
}

// Lookup returns the command for label; ok is false for unknown labels.
func (m Map) Lookup(label string) (models.Command, bool) {
	cmd, ok := m[label]
	return cmd, ok
}

// Labels returns the known labels in sorted order.
func (m Map) Labels() []string {
	labels := lo.Keys(m)
	sort.Strings(labels)
	return labels
}
