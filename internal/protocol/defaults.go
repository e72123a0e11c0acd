package protocol

// ProtocolVersionUnknown is the sentinel a Dispatcher holds before
// C_CHECK_VERSION has been observed (spec §4.E.4: "Version 0 = unknown").
const ProtocolVersionUnknown ProtocolVersion = 0

// NewDefaultTableCodec returns a TableCodec seeded with C_CHECK_VERSION
// under ProtocolVersionUnknown — the "earliest known schema" spec §4.E.2
// step 2 requires be parseable before the protocol version is negotiated —
// plus one representative post-handshake message (S_LOGIN, opcode 0x1234)
// registered under protocolVersion. Callers needing a larger table call
// RegisterMessage directly; this exists so tests and the example binary
// have something to dispatch against without hand-rolling a table.
func NewDefaultTableCodec(checkVersionOpcode uint16, protocolVersion ProtocolVersion) *TableCodec {
	tc := NewTableCodec()

	tc.RegisterMessage(ProtocolVersionUnknown, &MessageSchema{
		Name:    "cCheckVersion",
		Code:    checkVersionOpcode,
		Version: 1,
		Fields:  []Field{{Name: "version", Kind: KindVersionList}},
	})
	// The check-version schema is version-independent: register it under
	// the negotiated protocol version too so it keeps parsing afterward.
	tc.RegisterMessage(protocolVersion, &MessageSchema{
		Name:    "cCheckVersion",
		Code:    checkVersionOpcode,
		Version: 1,
		Fields:  []Field{{Name: "version", Kind: KindVersionList}},
	})

	tc.RegisterMessage(protocolVersion, &MessageSchema{
		Name:    "sLogin",
		Code:    0x1234,
		Version: 1,
		Fields: []Field{
			{Name: "accountName", Kind: KindString},
			{Name: "sessionId", Kind: KindInt},
		},
	})

	return tc
}
