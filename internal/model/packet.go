package model

// Control Packets (first byte, flags cleared)
const (
	CONNECT    = 1 << 4
	CONNACK    = 2 << 4
	PUBLISH    = 3 << 4
	PUBACK     = 4 << 4
	PUBREC     = 5 << 4
	PUBREL     = 6 << 4
	PUBCOMP    = 7 << 4
	SUBSCRIBE  = 8 << 4
	SUBACK     = 9 << 4
	PINGREQ    = 12 << 4
	PINGRESP   = 13 << 4
	DISCONNECT = 14 << 4
	AUTH       = 15 << 4

	PUBRELSend = PUBREL | 2
)

// PacketName returns a printable name for a control packet first byte.
func PacketName(b byte) string {
	switch b & 0xF0 {
	case CONNECT:
		return "CONNECT"
	case CONNACK:
		return "CONNACK"
	case PUBLISH:
		return "PUBLISH"
	case PUBACK:
		return "PUBACK"
	case PUBREC:
		return "PUBREC"
	case PUBREL:
		return "PUBREL"
	case PUBCOMP:
		return "PUBCOMP"
	case SUBSCRIBE:
		return "SUBSCRIBE"
	case SUBACK:
		return "SUBACK"
	case PINGREQ:
		return "PINGREQ"
	case PINGRESP:
		return "PINGRESP"
	case DISCONNECT:
		return "DISCONNECT"
	case AUTH:
		return "AUTH"
	}
	return "UNKNOWN"
}

// Reason Codes
const (
	Success                     = 0
	NormalDisconnection         = 0
	DisconnectWithWill          = 4
	NoMatchingSubscribers       = 16
	UnspecifiedError            = 128
	MalformedPacket             = 129
	ProtocolError               = 130
	ImplementationSpecificError = 131
	UnsupportedProtocolVersion  = 132
	ClientIdentifierNotValid    = 133
	BadUserNameOrPassword       = 134
	NotAuthorized               = 135
	ServerUnavailable           = 136
	ServerBusy                  = 137
	ServerShuttingDown          = 139
	KeepAliveTimeout            = 141
	SessionTakenOver            = 142
	TopicNameInvalid            = 144
	PacketIdentifierInUse       = 145
	PacketIdentifierNotFound    = 146
	ReceiveMaximumExceeded      = 147
	TopicAliasInvalid           = 148
	PacketTooLarge              = 149
	QuotaExceeded               = 151
	PayloadFormatInvalid        = 153
	RetainNotSupported          = 154
	QoSNotSupported             = 155
)

// Properties
const (
	PayloadFormatIndicator          = 1
	MessageExpiryInterval           = 2
	ContentType                     = 3
	ResponseTopic                   = 8
	CorrelationData                 = 9
	SubscriptionIdentifier          = 11
	SessionExpiryInterval           = 17
	AssignedClientIdentifier        = 18
	ServerKeepAlive                 = 19
	AuthenticationMethod            = 21
	AuthenticationData              = 22
	RequestProblemInformation       = 23
	WillDelayInterval               = 24
	RequestResponseInformation      = 25
	ResponseInformation             = 26
	ServerReference                 = 28
	ReasonString                    = 31
	ReceiveMaximum                  = 33
	TopicAliasMaximum               = 34
	TopicAlias                      = 35
	MaximumQoS                      = 36
	RetainAvailable                 = 37
	UserProperty                    = 38
	MaximumPacketSize               = 39
	WildcardSubscriptionAvailable   = 40
	SubscriptionIdentifierAvailable = 41
	SharedSubscriptionsAvailable    = 42
)
