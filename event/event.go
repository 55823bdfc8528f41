package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/teamlint/pg-implicit/types"
)

var (
	publishers           map[string]Publisher
	ErrPublisherNotFound = errors.New("publisher not found")
)

// Event relcache invalidation signal.
// RelID 为 InvalidOid 且 All 为 true 时表示整个缓存失效.
//easyjson:json
type Event struct {
	ID         string    `json:"id"`
	Origin     string    `json:"origin"`
	RelID      types.Oid `json:"rel_id"`
	All        bool      `json:"all"`
	Reason     string    `json:"reason"`
	CommitTime time.Time `json:"commit_time"`
}

// GetSubject creates subject name from the prefix.
func (e Event) GetSubject(prefix string) string {
	return fmt.Sprintf("%s_relcache", prefix)
}

// GetPublisher returns a registered publisher.
func GetPublisher(name string) (Publisher, error) {
	if pub, ok := publishers[name]; ok {
		return pub, nil
	}
	return nil, ErrPublisherNotFound
}

// RegisterPublisher 注册事件发布器, 同名发布器只注册一次
func RegisterPublisher(name string, pub Publisher) {
	if _, ok := publishers[name]; !ok {
		publishers[name] = pub
	}
}

func init() {
	publishers = make(map[string]Publisher)
}
