package constants

type Role string

const (
	// can start/end a broadcast and publish audio to its channel
	RoleSender Role = "sender"
	// can auto-join authorized senders' channels to receive audio
	RoleReceiver Role = "receiver"
)

const (
	// ChannelPrefix prefixes every derived channel name. Part of the
	// external contract with the media transport.
	ChannelPrefix = "myazan_"
)

const (
	// DefaultSessionPrefix is the etcd key prefix for session documents.
	DefaultSessionPrefix = "/myazan/sessions/"

	// FollowerKeyPrefix prefixes the Redis sets mapping a sender to the
	// receivers allowed to auto-join it.
	FollowerKeyPrefix = "myazan:followers:"
)
