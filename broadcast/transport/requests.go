package transport

// StartBroadcastRequest represents the request to start a broadcast
type StartBroadcastRequest struct {
	// SenderID: 3-64 characters (letters, numbers, hyphens, underscores)
	SenderID string `json:"senderId" binding:"required,senderid"`
}

// EndBroadcastRequest represents the request to end a broadcast (from URL param)
type EndBroadcastRequest struct {
	SessionID string `uri:"sessionId" binding:"required,sessionid"`
}

// ChannelRequest represents a channel lookup (from URL param)
type ChannelRequest struct {
	ChannelName string `uri:"channelName" binding:"required,channelname"`
}

// ListenRequest represents the request to start receiving for an identity
type ListenRequest struct {
	SenderIDs []string `json:"senderIds" binding:"required,min=1,dive,senderid"`
}
