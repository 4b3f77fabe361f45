// Package protocol decodes the plain-text lines the party game server sends
// over its WebSockets.
//
// The per-room socket carries loosely structured system lines such as
//
//	[SYSTEM]: Статус — WAITING_FOR_PLAYERS
//	[SYSTEM]: Ситуация: Zombie outbreak
//	[RESULT]: Zombie outbreak → partial
//
// Parse turns each line into an Event holding the status transition, the
// theme text, and the role signals the line implies. Lines that match no
// pattern come back with Matched set to false; they are never an error.
//
// The rooms monitor socket carries one "{roomId} : {ACTION}" line per room
// lifecycle change. ParseRoomLine and ParseRoomFrame decode those into
// RoomEvent values. Actions the client does not know are kept verbatim under
// RoomEventUnknown instead of being dropped.
package protocol
