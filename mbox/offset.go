package mbox

import "strconv"

// Offset selects where Insert places a new message. The zero value is End.
type Offset struct {
	pos int
	set bool
}

// End places the new message after the last one.
var End = Offset{}

// At places the new message before the message currently numbered k.
// Negative values, including the historical -1, mean End.
func At(k int) Offset {
	if k < 0 {
		return End
	}
	return Offset{pos: k, set: true}
}

// Position reports the message number and whether one was given.
func (o Offset) Position() (int, bool) {
	return o.pos, o.set
}

// resolve maps the offset onto an archive of size messages. Positions at or
// past size insert after the last message.
func (o Offset) resolve(size int) int {
	if !o.set || o.pos > size {
		return size
	}
	return o.pos
}

func (o Offset) String() string {
	if !o.set {
		return "end"
	}
	return strconv.Itoa(o.pos)
}
