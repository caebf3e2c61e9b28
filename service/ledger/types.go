package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// State type names as they appear on the ledger feed.
const (
	StateTypeAgreement   = "LandAgreementState"
	StateTypeInstruction = "InstructionState"
)

// Identity is a ledger participant, compared by value.
// Optional components are empty strings when absent.
type Identity struct {
	Organisation       string `json:"organisation"`
	Locality           string `json:"locality"`
	Country            string `json:"country"`
	State              string `json:"state,omitempty"`
	OrganisationalUnit string `json:"organisational_unit,omitempty"`
	CommonName         string `json:"common_name,omitempty"`
}

// String renders the identity as an X.500 name, e.g. "O=Conveyancer1,L=London,C=GB".
func (i Identity) String() string {
	parts := make([]string, 0, 6)
	if i.CommonName != "" {
		parts = append(parts, "CN="+i.CommonName)
	}
	if i.OrganisationalUnit != "" {
		parts = append(parts, "OU="+i.OrganisationalUnit)
	}
	parts = append(parts, "O="+i.Organisation, "L="+i.Locality)
	if i.State != "" {
		parts = append(parts, "ST="+i.State)
	}
	parts = append(parts, "C="+i.Country)
	return strings.Join(parts, ",")
}

// IsZero reports whether no identity fields are set.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

// Party is a buyer or seller named in an agreement.
type Party struct {
	Phone    string `json:"phone"`
	Forename string `json:"forename"`
	Surname  string `json:"surname"`
}

// FullName joins forename and surname.
func (p Party) FullName() string {
	return p.Forename + " " + p.Surname
}

// AgreementStatus is the lifecycle status of a sales agreement.
type AgreementStatus int

const (
	StatusUnknown AgreementStatus = iota
	StatusCreated
	StatusApproved
	StatusSigned
	StatusCompleted
	StatusTransferred
)

var statusNames = map[AgreementStatus]string{
	StatusCreated:     "CREATED",
	StatusApproved:    "APPROVED",
	StatusSigned:      "SIGNED",
	StatusCompleted:   "COMPLETED",
	StatusTransferred: "TRANSFERRED",
}

func (s AgreementStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseAgreementStatus maps a status name to its value. Unrecognised names
// yield StatusUnknown so that new ledger statuses never break decoding.
func ParseAgreementStatus(name string) AgreementStatus {
	for s, n := range statusNames {
		if strings.EqualFold(n, name) {
			return s
		}
	}
	return StatusUnknown
}

func (s AgreementStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *AgreementStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("agreement status must be a string: %w", err)
	}
	*s = ParseAgreementStatus(name)
	return nil
}

// Transition is an immutable snapshot of a ledger state. The set of
// variants is closed: AgreementTransition, InstructionTransition and
// UnknownTransition.
type Transition interface {
	StateType() string
	isTransition()
}

// AgreementTransition is a land sales agreement as recorded on the ledger.
type AgreementTransition struct {
	TitleID           string          `json:"title_id"`
	Seller            Party           `json:"seller"`
	Buyer             Party           `json:"buyer"`
	SellerConveyancer Identity        `json:"seller_conveyancer"`
	BuyerConveyancer  Identity        `json:"buyer_conveyancer"`
	Status            AgreementStatus `json:"status"`
}

func (AgreementTransition) StateType() string { return StateTypeAgreement }
func (AgreementTransition) isTransition()     {}

// InstructionTransition instructs a conveyancer to act on a case held in
// the case-management system.
type InstructionTransition struct {
	TitleID             string   `json:"title_id"`
	CaseReferenceNumber string   `json:"case_reference_number"`
	Conveyancer         Identity `json:"conveyancer"`
	User                string   `json:"user"`
}

func (InstructionTransition) StateType() string { return StateTypeInstruction }
func (InstructionTransition) isTransition()     {}

// UnknownTransition stands in for any state type this service does not
// handle yet.
type UnknownTransition struct {
	Type string
}

func (u UnknownTransition) StateType() string { return u.Type }
func (UnknownTransition) isTransition()       {}

// ProducedState is one newly produced state inside an update batch.
type ProducedState struct {
	StateType string          `json:"type"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Update is one batch delivered by the ledger feed.
type Update struct {
	Produced []ProducedState `json:"produced"`
	Consumed []string        `json:"consumed,omitempty"`
}

// KnownStateType reports whether this service decodes the state type.
func KnownStateType(stateType string) bool {
	return stateType == StateTypeAgreement || stateType == StateTypeInstruction
}

// Decode converts a produced state into its typed transition.
// Unknown state types are not an error.
func Decode(ps ProducedState) (Transition, error) {
	switch ps.StateType {
	case StateTypeAgreement:
		var t AgreementTransition
		if err := json.Unmarshal(ps.Data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", ps.StateType, err)
		}
		if t.TitleID == "" {
			return nil, fmt.Errorf("failed to decode %s: title_id is required", ps.StateType)
		}
		return t, nil
	case StateTypeInstruction:
		var t InstructionTransition
		if err := json.Unmarshal(ps.Data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", ps.StateType, err)
		}
		if t.CaseReferenceNumber == "" {
			return nil, fmt.Errorf("failed to decode %s: case_reference_number is required", ps.StateType)
		}
		return t, nil
	default:
		return UnknownTransition{Type: ps.StateType}, nil
	}
}
