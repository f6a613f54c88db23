// Package model defines the data models for the button hunt bot.
package model

import "time"

// Phase is the lifecycle state of the shared game session.
type Phase string

// Session phases. Transitions: waiting → running (start),
// running → ended (end), any → waiting (reset).
const (
	PhaseWaiting Phase = "waiting"
	PhaseRunning Phase = "running"
	PhaseEnded   Phase = "ended"
)

// Player represents a chat participant in the game.
type Player struct {
	TelegramID   int64     `db:"telegram_id"`
	Username     string    `db:"username"`
	FirstName    string    `db:"first_name"`
	IsAdmin      bool      `db:"is_admin"`
	Alive        bool      `db:"alive"`
	EliminatedBy *int64    `db:"eliminated_by"`
	ButtonNumber *int      `db:"button_number"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Name returns the display handle for a player, preferring the username.
func (p *Player) Name() string {
	if p.Username != "" {
		return "@" + p.Username
	}
	if p.FirstName != "" {
		return p.FirstName
	}
	return "user"
}

// Button represents a slot a player must hold to participate.
// Regular buttons carry a number 1..N and a cosmetic circle emoji;
// special (bonus) buttons have no number and no fixed owner.
type Button struct {
	ID        int64     `db:"id"`
	Number    *int      `db:"number"`
	Circle    string    `db:"circle"`
	Code      *string   `db:"code"`
	OwnerID   *int64    `db:"owner_id"`
	Taken     bool      `db:"taken"`
	Blocked   bool      `db:"blocked"`
	CodeUsed  bool      `db:"code_used"`
	Special   bool      `db:"special"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Session is the single shared game instance.
type Session struct {
	ID        int16      `db:"id"`
	Phase     Phase      `db:"phase"`
	CodePool  []string   `db:"code_pool"`
	StartedAt *time.Time `db:"started_at"`
	EndedAt   *time.Time `db:"ended_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// Discovery records that a player has found another player's button code.
// Discovery is unidirectional: the submitter gains a lead on the owner.
type Discovery struct {
	PlayerID  int64     `db:"player_id"`
	TargetID  int64     `db:"target_id"`
	CreatedAt time.Time `db:"created_at"`
}
