// Package protocol defines the message vocabulary exchanged between the host
// and the joiner, and its line-oriented JSON encoding.
package protocol

import "time"

// Type is the discriminant carried by every message in its "Type" field.
type Type string

// Message discriminants.
const (
	TypeJoin                Type = "Join"
	TypeJoinOk              Type = "JoinOk"
	TypeJoinReject          Type = "JoinReject"
	TypeSelectSong          Type = "SelectSong"
	TypeSelectDifficulty    Type = "SelectDifficulty"
	TypeReady               Type = "Ready"
	TypeStart               Type = "Start"
	TypeInput               Type = "Input"
	TypeHitResult           Type = "HitResult"
	TypeMatchSummary        Type = "MatchSummary"
	TypeAbort               Type = "Abort"
	TypeSystem              Type = "System"
	TypeUpdatePlayerSetting Type = "UpdatePlayerSetting"
)

// Message is one of the variants below. The set is closed: only types in this
// package implement it.
type Message interface {
	// Kind returns the discriminant of the variant.
	Kind() Type
	header() Envelope
}

// Envelope is the part shared by every message. A line whose discriminant is
// not known decodes to a bare *Envelope.
type Envelope struct {
	Type Type `json:"Type"`
}

func (e Envelope) Kind() Type       { return e.Type }
func (e Envelope) header() Envelope { return e }

// Join is the first message a joiner sends after connecting.
type Join struct {
	Envelope
	Name string `json:"Name"`
}

// JoinOk accepts a joiner into the room.
type JoinOk struct {
	Envelope
	Slot    int    `json:"Slot"`
	RoomID  string `json:"RoomId"`
	Message string `json:"Message"`
}

// JoinReject refuses a connection, e.g. because the room is occupied.
type JoinReject struct {
	Envelope
	Reason string `json:"Reason"`
}

type SelectSong struct {
	Envelope
	SongID     string `json:"SongId"`
	Difficulty string `json:"Difficulty"`
}

type SelectDifficulty struct {
	Envelope
	Slot       int    `json:"Slot"`
	Difficulty string `json:"Difficulty"`
}

type Ready struct {
	Envelope
	Slot    int  `json:"Slot"`
	IsReady bool `json:"IsReady"`
}

// Start schedules the match at an absolute wall-clock instant. Both sides
// count in from StartAtUnixMs, not from the moment the message arrived.
type Start struct {
	Envelope
	StartInMs     int64 `json:"StartInMs"`
	StartAtUnixMs int64 `json:"StartAtUnixMs"`
}

// StartAt returns the absolute instant the match begins.
func (m *Start) StartAt() time.Time {
	return time.UnixMilli(m.StartAtUnixMs)
}

// Until returns the remaining count-in relative to now. It is negative once
// the start instant has passed.
func (m *Start) Until(now time.Time) time.Duration {
	return m.StartAt().Sub(now)
}

type Input struct {
	Envelope
	Slot     int     `json:"Slot"`
	NoteType string  `json:"NoteType"`
	AtMs     float64 `json:"AtMs"`
}

// HitResult is the authoritative judgement of a single note.
type HitResult struct {
	Envelope
	Slot     int     `json:"Slot"`
	NoteType string  `json:"NoteType"`
	AtMs     float64 `json:"AtMs"`
	Result   string  `json:"Result"`
	Score    int     `json:"Score"`
	Combo    int     `json:"Combo"`
	Accuracy float64 `json:"Accuracy"`
}

// MatchSummary is the final score sheet of one slot.
type MatchSummary struct {
	Envelope
	Slot       int     `json:"Slot"`
	PlayerName string  `json:"PlayerName"`
	Score      int     `json:"Score"`
	PerfectHit int     `json:"PerfectHit"`
	GoodHit    int     `json:"GoodHit"`
	BadHit     int     `json:"BadHit"`
	MissHit    int     `json:"MissHit"`
	MaxCombo   int     `json:"MaxCombo"`
	TotalNotes int     `json:"TotalNotes"`
	Accuracy   float64 `json:"Accuracy"`
}

// Abort announces that the sender is leaving.
type Abort struct {
	Envelope
	Reason string `json:"Reason"`
}

// System carries free text; the session uses it as its keep-alive marker.
type System struct {
	Envelope
	Text string `json:"Text"`
}

type UpdatePlayerSetting struct {
	Envelope
	Slot  int     `json:"Slot"`
	Speed float64 `json:"Speed"`
}

func (*Join) Kind() Type                { return TypeJoin }
func (*JoinOk) Kind() Type              { return TypeJoinOk }
func (*JoinReject) Kind() Type          { return TypeJoinReject }
func (*SelectSong) Kind() Type          { return TypeSelectSong }
func (*SelectDifficulty) Kind() Type    { return TypeSelectDifficulty }
func (*Ready) Kind() Type               { return TypeReady }
func (*Start) Kind() Type               { return TypeStart }
func (*Input) Kind() Type               { return TypeInput }
func (*HitResult) Kind() Type           { return TypeHitResult }
func (*MatchSummary) Kind() Type        { return TypeMatchSummary }
func (*Abort) Kind() Type               { return TypeAbort }
func (*System) Kind() Type              { return TypeSystem }
func (*UpdatePlayerSetting) Kind() Type { return TypeUpdatePlayerSetting }

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func envelope(t Type) Envelope { return Envelope{Type: t} }

func NewJoin(name string) *Join {
	return &Join{Envelope: envelope(TypeJoin), Name: name}
}

func NewJoinOk(slot int, roomID, message string) *JoinOk {
	return &JoinOk{Envelope: envelope(TypeJoinOk), Slot: slot, RoomID: roomID, Message: message}
}

func NewJoinReject(reason string) *JoinReject {
	return &JoinReject{Envelope: envelope(TypeJoinReject), Reason: reason}
}

func NewSelectSong(songID, difficulty string) *SelectSong {
	return &SelectSong{Envelope: envelope(TypeSelectSong), SongID: songID, Difficulty: difficulty}
}

func NewSelectDifficulty(slot int, difficulty string) *SelectDifficulty {
	return &SelectDifficulty{Envelope: envelope(TypeSelectDifficulty), Slot: slot, Difficulty: difficulty}
}

func NewReady(slot int, isReady bool) *Ready {
	return &Ready{Envelope: envelope(TypeReady), Slot: slot, IsReady: isReady}
}

func NewStart(startInMs, startAtUnixMs int64) *Start {
	return &Start{Envelope: envelope(TypeStart), StartInMs: startInMs, StartAtUnixMs: startAtUnixMs}
}

func NewInput(slot int, noteType string, atMs float64) *Input {
	return &Input{Envelope: envelope(TypeInput), Slot: slot, NoteType: noteType, AtMs: atMs}
}

// NewHitResult returns a copy of r with its discriminant set.
func NewHitResult(r HitResult) *HitResult {
	r.Envelope = envelope(TypeHitResult)
	return &r
}

// NewMatchSummary returns a copy of s with its discriminant set.
func NewMatchSummary(s MatchSummary) *MatchSummary {
	s.Envelope = envelope(TypeMatchSummary)
	return &s
}

func NewAbort(reason string) *Abort {
	return &Abort{Envelope: envelope(TypeAbort), Reason: reason}
}

func NewSystem(text string) *System {
	return &System{Envelope: envelope(TypeSystem), Text: text}
}

func NewUpdatePlayerSetting(slot int, speed float64) *UpdatePlayerSetting {
	return &UpdatePlayerSetting{Envelope: envelope(TypeUpdatePlayerSetting), Slot: slot, Speed: speed}
}
