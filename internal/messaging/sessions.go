package messaging

// Sessions is the view of the session registry the messaging core needs.
// Every method is non-blocking; a false or zero result means the peer was offline
// or could not accept the event.
type Sessions interface {
	SendTo(userID int64, event any) bool
	SendToMany(userIDs []int64, event any) int
	Broadcast(event any, exclude int64) int
}
