package device

// RuleTable maps discovered endpoint UUIDs to read/write roles
type RuleTable interface {
	IsRead(uuid string) bool
	IsWrite(uuid string) bool
}

// Default Ironbot endpoints (Nordic UART layout): notifications arrive on TX, commands go to RX.
const (
	DefaultReadUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultWriteUUID = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
)

// Rules is an immutable RuleTable keyed by normalized UUID.
// A UUID may carry both roles.
type Rules struct {
	read  map[string]struct{}
	write map[string]struct{}
}

// NewRules builds a rule table from read and write UUID lists in any accepted UUID form.
func NewRules(readUUIDs, writeUUIDs []string) *Rules {
	r := &Rules{
		read:  make(map[string]struct{}, len(readUUIDs)),
		write: make(map[string]struct{}, len(writeUUIDs)),
	}
	for _, u := range readUUIDs {
		r.read[NormalizeUUID(u)] = struct{}{}
	}
	for _, u := range writeUUIDs {
		r.write[NormalizeUUID(u)] = struct{}{}
	}
	return r
}

// DefaultRules returns the rule table for stock Ironbot firmware.
func DefaultRules() *Rules {
	return NewRules([]string{DefaultReadUUID}, []string{DefaultWriteUUID})
}

func (r *Rules) IsRead(uuid string) bool {
	_, ok := r.read[NormalizeUUID(uuid)]
	return ok
}

func (r *Rules) IsWrite(uuid string) bool {
	_, ok := r.write[NormalizeUUID(uuid)]
	return ok
}
