package voice

const (
	roomEndpoint         = "/room"
	commandEndpoint      = "/command"
	batchCommandEndpoint = "/batch-command"
)

func roomPath(roomID string) string {
	return roomEndpoint + "/" + roomID
}
