package player

import "github.com/go-json-experiment/json"

// Slot is an equipment slot.
type Slot int

const (
	Helm Slot = iota
	Shirt
	Pants
	Shoes
	Gloves
	Weapon
	Shield
	Ring
	Amulet
	Charm

	nslots
)

// Slots lists every equipment slot in order.
var Slots = [nslots]Slot{Helm, Shirt, Pants, Shoes, Gloves, Weapon, Shield, Ring, Amulet, Charm}

var slotNames = [nslots]string{"helm", "shirt", "pants", "shoes", "gloves", "weapon", "shield", "ring", "amulet", "charm"}

func (s Slot) valid() bool { return s >= 0 && s < nslots }

func (s Slot) String() string {
	if !s.valid() {
		return "slot?"
	}
	return slotNames[s]
}

// ParseSlot returns the slot with the given name.
func ParseSlot(name string) (Slot, bool) {
	for i, n := range slotNames {
		if n == name {
			return Slot(i), true
		}
	}
	return -1, false
}

// Equipment holds the item level in each slot.
type Equipment [nslots]int

// itemsJSON is the stored layout of equipment.
// Unknown members are ignored on decode.
type itemsJSON struct {
	Helm   int `json:"helm"`
	Shirt  int `json:"shirt"`
	Pants  int `json:"pants"`
	Shoes  int `json:"shoes"`
	Gloves int `json:"gloves"`
	Weapon int `json:"weapon"`
	Shield int `json:"shield"`
	Ring   int `json:"ring"`
	Amulet int `json:"amulet"`
	Charm  int `json:"charm"`
}

func (v *itemsJSON) fields() [nslots]*int {
	return [nslots]*int{&v.Helm, &v.Shirt, &v.Pants, &v.Shoes, &v.Gloves, &v.Weapon, &v.Shield, &v.Ring, &v.Amulet, &v.Charm}
}

func (v *itemsJSON) to(eq *Equipment) {
	for i, f := range v.fields() {
		eq[i] = *f
	}
}

func (eq *Equipment) encode() string {
	var v itemsJSON
	for i, f := range v.fields() {
		*f = eq[i]
	}
	b, err := json.Marshal(&v)
	if err != nil {
		// Only ints; this can't fail.
		panic(err)
	}
	return string(b)
}
