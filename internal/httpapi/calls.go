package httpapi

import (
	"sync"
	"time"
)

const callContextTTL = 24 * time.Hour

// callContext is what the server remembers about a call it placed, so the
// CRM task can be linked to the right records.
type callContext struct {
	ContactID string
	AccountID string
	To        string
	Message   string
	CreatedAt time.Time
}

// callDirectory holds contexts for placed calls until their terminal status
// arrives. Calls that never report one are pruned after callContextTTL.
type callDirectory struct {
	mu    sync.Mutex
	calls map[string]callContext
	now   func() time.Time
}

func newCallDirectory() *callDirectory {
	return &callDirectory{calls: make(map[string]callContext), now: time.Now}
}

func (d *callDirectory) remember(callSID string, c callContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	d.pruneLocked(now)
	c.CreatedAt = now
	d.calls[callSID] = c
}

// take removes and returns the context for callSID. Only the first caller
// for a call sid gets ok.
func (d *callDirectory) take(callSID string) (callContext, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(d.now())
	c, ok := d.calls[callSID]
	if ok {
		delete(d.calls, callSID)
	}
	return c, ok
}

func (d *callDirectory) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func (d *callDirectory) pruneLocked(now time.Time) {
	for sid, c := range d.calls {
		if now.Sub(c.CreatedAt) > callContextTTL {
			delete(d.calls, sid)
		}
	}
}
