package hashchain

import "encoding/json"

// FinalizationPayload is the block payload appended when an agreement is
// finalized.
type FinalizationPayload struct {
	AgreementID string   `json:"agreement_id"`
	Files       []string `json:"files"`
	Type        string   `json:"type"`
}

// PayloadTypeFinalization tags finalization blocks.
const PayloadTypeFinalization = "agreement_finalization"

func marshalPayload(payload any) (json.RawMessage, error) {
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(payload)
}
