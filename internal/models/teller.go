package models

type TellerStatus string

const (
	TellerAvailable TellerStatus = "available"
	TellerServing   TellerStatus = "serving"
)

type Teller struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Status          TellerStatus `json:"status"`
	CustomersServed int          `json:"customers_served"`
	ServiceTypes    []string     `json:"service_types"`
}

func (t Teller) CanServe(serviceType string) bool {
	for _, st := range t.ServiceTypes {
		if st == serviceType {
			return true
		}
	}
	return false
}

func (t Teller) Clone() Teller {
	out := t
	out.ServiceTypes = append([]string(nil), t.ServiceTypes...)
	return out
}

// DefaultRoster is the branch roster seeded on first startup.
func DefaultRoster() []Teller {
	return []Teller{
		{ID: "1", Name: "Jean Bosco", Status: TellerAvailable, ServiceTypes: []string{"international-transfer", "forex"}},
		{ID: "2", Name: "Marie Claire", Status: TellerAvailable, ServiceTypes: []string{"international-transfer", "domestic-transfer"}},
		{ID: "3", Name: "Emmanuel", Status: TellerAvailable, ServiceTypes: []string{"domestic-transfer", "account-services"}},
	}
}
