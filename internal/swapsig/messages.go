package swapsig

// SwapSig message types. The envelope and protocol id are
// shared with MuSig2 via internal/protocol.
const (
	TypePoolAnnounce           = "POOL_ANNOUNCE"
	TypePoolJoin               = "POOL_JOIN"
	TypeParticipantRegistered  = "PARTICIPANT_REGISTERED"
	TypeRegistrationAck        = "REGISTRATION_ACK"
	TypeSetupTxBroadcast       = "SETUP_TX_BROADCAST"
	TypeSetupConfirmed         = "SETUP_CONFIRMED"
	TypeSetupComplete          = "SETUP_COMPLETE"
	TypeDestinationReveal      = "DESTINATION_REVEAL"
	TypeRevealComplete         = "REVEAL_COMPLETE"
	TypeSettlementTxBroadcast  = "SETTLEMENT_TX_BROADCAST"
	TypeSettlementConfirmed    = "SETTLEMENT_CONFIRMED"
	TypeSettlementComplete     = "SETTLEMENT_COMPLETE"
	TypePoolAbort              = "POOL_ABORT"
	TypeParticipantDropped     = "PARTICIPANT_DROPPED"
)

// PoolAnnouncePayload is the DISCOVERY-phase POOL_ANNOUNCE message body.
type PoolAnnouncePayload struct {
	PoolID            string  `json:"poolId"`
	Denomination      int64   `json:"denomination"`
	MinParticipants   int     `json:"minParticipants"`
	MaxParticipants   int     `json:"maxParticipants"`
	BurnPercentage    float64 `json:"burnPercentage"`
	BurnMin           int64   `json:"burnMin"`
	BurnMax           int64   `json:"burnMax"`
	SetupTimeout      int64   `json:"setupTimeout"`
	SettlementTimeout int64   `json:"settlementTimeout"`
	CreatorPubKey     string  `json:"creatorPubKey"`
	CreatorSig        string  `json:"creatorSig"`
}

// PoolJoinPayload is the REGISTRATION-phase POOL_JOIN message body.
type PoolJoinPayload struct {
	PoolID                string `json:"poolId"`
	PublicKey             string `json:"publicKey"`
	InputTxID             string `json:"inputTxId"`
	InputVout             uint32 `json:"inputVout"`
	InputAmount           int64  `json:"inputAmount"`
	InputScriptPubKey     string `json:"inputScriptPubKey"`
	OwnershipProof        string `json:"ownershipProof"`
	FinalOutputCommitment string `json:"finalOutputCommitment"`
	FinalOutputEncrypted  string `json:"finalOutputEncrypted"`
}

// ParticipantRegisteredPayload announces a successful admission to peers.
type ParticipantRegisteredPayload struct {
	PoolID             string `json:"poolId"`
	ParticipantIndex   int    `json:"participantIndex"`
	PublicKey          string `json:"publicKey"`
}

// RegistrationAckPayload is sent directly back to the joiner.
type RegistrationAckPayload struct {
	PoolID   string `json:"poolId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// SetupTxBroadcastPayload announces a participant's locally signed setup TX.
type SetupTxBroadcastPayload struct {
	PoolID           string `json:"poolId"`
	ParticipantIndex int    `json:"participantIndex"`
	TxID             string `json:"txid"`
}

// SetupConfirmedPayload announces a setup TX has reached the required
// confirmation depth.
type SetupConfirmedPayload struct {
	PoolID           string `json:"poolId"`
	ParticipantIndex int    `json:"participantIndex"`
	TxID             string `json:"txid"`
}

// SetupCompletePayload announces every surviving participant's setup TX is
// confirmed and the pool is moving to REVEAL.
type SetupCompletePayload struct {
	PoolID string `json:"poolId"`
}

// DestinationRevealPayload is the commit-reveal destination disclosure.
type DestinationRevealPayload struct {
	PoolID           string `json:"poolId"`
	ParticipantIndex int    `json:"participantIndex"`
	FinalAddress     string `json:"finalAddress"`
	Blinding         string `json:"blinding"`
}

// RevealCompletePayload announces every surviving participant's
// destination has been revealed and validated.
type RevealCompletePayload struct {
	PoolID string `json:"poolId"`
}

// SettlementTxBroadcastPayload announces a group's settlement TX.
type SettlementTxBroadcastPayload struct {
	PoolID     string `json:"poolId"`
	GroupIndex int    `json:"groupIndex"`
	TxID       string `json:"txid"`
}

// SettlementConfirmedPayload announces a group settlement TX reached the
// required confirmation depth.
type SettlementConfirmedPayload struct {
	PoolID     string `json:"poolId"`
	GroupIndex int    `json:"groupIndex"`
	TxID       string `json:"txid"`
}

// SettlementCompletePayload announces the whole pool has completed.
type SettlementCompletePayload struct {
	PoolID string `json:"poolId"`
}

// PoolAbortPayload announces pool-wide abandonment with a generic reason
// code, never the detailed internal message ().
type PoolAbortPayload struct {
	PoolID    string `json:"poolId"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// ParticipantDroppedPayload announces a single participant's removal
// without aborting the pool.
type ParticipantDroppedPayload struct {
	PoolID           string `json:"poolId"`
	ParticipantIndex int    `json:"participantIndex"`
	Reason           string `json:"reason"`
}
