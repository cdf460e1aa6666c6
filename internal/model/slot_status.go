package model

import "fmt"

// SlotStatus is the commitment state of a slot. Values match the wire enum.
type SlotStatus int32

const (
	SlotProcessed SlotStatus = iota
	SlotRooted
	SlotConfirmed
	SlotFirstShredReceived
	SlotCompleted
	SlotCreatedBank
	SlotDead
)

// SlotUnknown is the rendered name of any status outside the enum.
const SlotUnknown = "Unknown"

var slotStatusNames = [...]string{
	SlotProcessed:          "Processed",
	SlotRooted:             "Rooted",
	SlotConfirmed:          "Confirmed",
	SlotFirstShredReceived: "FirstShredReceived",
	SlotCompleted:          "Completed",
	SlotCreatedBank:        "CreatedBank",
	SlotDead:               "Dead",
}

// Known reports whether s is one of the enumerated statuses.
func (s SlotStatus) Known() bool {
	return s >= SlotProcessed && int(s) < len(slotStatusNames)
}

func (s SlotStatus) String() string {
	if !s.Known() {
		return SlotUnknown
	}
	return slotStatusNames[s]
}

// ParseSlotStatus maps a status name back to its value.
func ParseSlotStatus(name string) (SlotStatus, error) {
	for i, n := range slotStatusNames {
		if n == name {
			return SlotStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown slot status: %q", name)
}
