package casemgmt

import (
	"fmt"
)

// CaseRecord is a case as returned by the case-management API. Pointer
// fields distinguish absent values from zero values.
type CaseRecord struct {
	CaseReference                    *string        `json:"case_reference"`
	CaseType                         *string        `json:"case_type"`
	Status                           *string        `json:"status"`
	AssignedStaffID                  *int64         `json:"assigned_staff_id"`
	ClientID                         *int64         `json:"client_id"`
	CounterpartyID                   *int64         `json:"counterparty_id"`
	CounterpartyConveyancerContactID *int64         `json:"counterparty_conveyancer_contact_id"`
	Address                          *RecordAddress `json:"address"`
	CounterpartyConveyancerOrg       *RecordOrg     `json:"counterparty_conveyancer_org"`
	TitleNumber                      *string        `json:"title_number,omitempty"`
}

// RecordAddress is the nested address of a case record.
type RecordAddress struct {
	HouseNameNumber *string `json:"house_name_number"`
	Street          *string `json:"street"`
	TownCity        *string `json:"town_city"`
	County          *string `json:"county"`
	Country         *string `json:"country"`
	Postcode        *string `json:"postcode"`
}

// RecordOrg is the counterparty conveyancer's organisation.
type RecordOrg struct {
	Organisation       *string `json:"organisation"`
	Locality           *string `json:"locality"`
	Country            *string `json:"country"`
	State              *string `json:"state"`
	OrganisationalUnit *string `json:"organisational_unit"`
	CommonName         *string `json:"common_name"`
}

// CaseUpdate is the body PUT back to the case-management API.
type CaseUpdate struct {
	CaseReference                    string    `json:"case_reference"`
	CaseType                         string    `json:"case_type"`
	Status                           string    `json:"status"`
	AssignedStaffID                  int64     `json:"assigned_staff_id"`
	ClientID                         int64     `json:"client_id"`
	CounterpartyID                   int64     `json:"counterparty_id"`
	CounterpartyConveyancerContactID int64     `json:"counterparty_conveyancer_contact_id"`
	Address                          Address   `json:"address"`
	CounterpartyConveyancerOrg       OrgUpdate `json:"counterparty_conveyancer_org"`
	TitleNumber                      string    `json:"title_number"`
}

// Address is the address sub-object of an update.
type Address struct {
	HouseNameNumber string `json:"house_name_number"`
	Street          string `json:"street"`
	TownCity        string `json:"town_city"`
	County          string `json:"county"`
	Country         string `json:"country"`
	Postcode        string `json:"postcode"`
}

// OrgUpdate omits optional components that were null in the source.
type OrgUpdate struct {
	Organisation       string  `json:"organisation"`
	Locality           string  `json:"locality"`
	Country            string  `json:"country"`
	State              *string `json:"state,omitempty"`
	OrganisationalUnit *string `json:"organisational_unit,omitempty"`
	CommonName         *string `json:"common_name,omitempty"`
}

// MappingError reports a case record that cannot be projected.
type MappingError struct {
	Field string
	Err   error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("case record mapping failed: %v", e.Err)
	}
	return fmt.Sprintf("case record mapping failed: %s is missing", e.Field)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}

// Project builds the update payload for a case from its current record,
// adding the title number.
func Project(source *CaseRecord, titleNumber string) (*CaseUpdate, error) {
	if source == nil {
		return nil, &MappingError{Field: "case"}
	}
	m := &mapper{}

	update := &CaseUpdate{
		CaseReference:                    m.str("case_reference", source.CaseReference),
		CaseType:                         m.str("case_type", source.CaseType),
		Status:                           m.str("status", source.Status),
		AssignedStaffID:                  m.int("assigned_staff_id", source.AssignedStaffID),
		ClientID:                         m.int("client_id", source.ClientID),
		CounterpartyID:                   m.int("counterparty_id", source.CounterpartyID),
		CounterpartyConveyancerContactID: m.int("counterparty_conveyancer_contact_id", source.CounterpartyConveyancerContactID),
		TitleNumber:                      titleNumber,
	}

	if a := source.Address; a == nil {
		m.fail("address")
	} else {
		update.Address = Address{
			HouseNameNumber: m.str("address.house_name_number", a.HouseNameNumber),
			Street:          m.str("address.street", a.Street),
			TownCity:        m.str("address.town_city", a.TownCity),
			County:          m.str("address.county", a.County),
			Country:         m.str("address.country", a.Country),
			Postcode:        m.str("address.postcode", a.Postcode),
		}
	}

	if o := source.CounterpartyConveyancerOrg; o == nil {
		m.fail("counterparty_conveyancer_org")
	} else {
		update.CounterpartyConveyancerOrg = OrgUpdate{
			Organisation:       m.str("counterparty_conveyancer_org.organisation", o.Organisation),
			Locality:           m.str("counterparty_conveyancer_org.locality", o.Locality),
			Country:            m.str("counterparty_conveyancer_org.country", o.Country),
			State:              o.State,
			OrganisationalUnit: o.OrganisationalUnit,
			CommonName:         o.CommonName,
		}
	}

	if m.missing != "" {
		return nil, &MappingError{Field: m.missing}
	}
	return update, nil
}

// mapper remembers the first missing field.
type mapper struct {
	missing string
}

func (m *mapper) fail(field string) {
	if m.missing == "" {
		m.missing = field
	}
}

func (m *mapper) str(field string, v *string) string {
	if v == nil {
		m.fail(field)
		return ""
	}
	return *v
}

func (m *mapper) int(field string, v *int64) int64 {
	if v == nil {
		m.fail(field)
		return 0
	}
	return *v
}
