// Package menu builds the inline menus and message texts shown to
// players and admins.
package menu

// squares are the numbered slot markers shown next to a player.
var squares = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣"}

// defaultCircles are the colored markers dealt to the slots at seeding.
var defaultCircles = []string{"🔴", "🟠", "🟡", "🟢", "🔵", "🟣", "🟤", "⚫", "⚪"}

// NumberToSquare maps a slot number to its numbered emoji. Unassigned
// numbers render as a dash.
func NumberToSquare(number *int) string {
	if number == nil || *number < 1 || *number > len(squares) {
		return "➖"
	}
	return squares[*number-1]
}

// DefaultCircles returns the circle markers used to seed the slots.
func DefaultCircles() []string {
	out := make([]string, len(defaultCircles))
	copy(out, defaultCircles)
	return out
}
