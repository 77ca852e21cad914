package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/ekaya-inc/ekaya-fleetql/pkg/prompts"
)

// DefaultMaxFrames is the result stack depth.
const DefaultMaxFrames = 5

const (
	summaryFrames = 5
	keyTopicCount = 5
)

// Context is one session's memory. A request borrows it from the Store and
// holds it exclusively until released.
type Context struct {
	ID string

	maxFrames int
	frames    []*ResultFrame // oldest first
	summary   string
	keyTopics []string

	// hooks are set by the Store for persistence.
	onPush  func(*ResultFrame)
	onClear func()

	// mu guards reads from other goroutines (stats, listings); mutations
	// happen only while the Store lock is held by one request.
	mu sync.RWMutex
}

// NewContext creates an empty session context.
func NewContext(id string, maxFrames int) *Context {
	if maxFrames < DefaultMaxFrames {
		maxFrames = DefaultMaxFrames
	}
	return &Context{ID: id, maxFrames: maxFrames}
}

// Push appends frame, dropping the oldest frame when the stack is full, and
// refreshes the summary and key topics.
func (c *Context) Push(frame *ResultFrame) {
	if frame == nil {
		return
	}
	c.mu.Lock()
	c.pushLocked(frame)
	hook := c.onPush
	c.mu.Unlock()

	if hook != nil {
		hook(frame)
	}
}

func (c *Context) pushLocked(frame *ResultFrame) {
	c.frames = append(c.frames, frame)
	if over := len(c.frames) - c.maxFrames; over > 0 {
		c.frames = append([]*ResultFrame(nil), c.frames[over:]...)
	}
	c.refreshLocked()
}

// restore loads persisted frames without firing the push hook.
func (c *Context) restore(frames []*ResultFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range frames {
		c.pushLocked(f)
	}
}

func (c *Context) refreshLocked() {
	start := max(0, len(c.frames)-summaryFrames)

	counts := make(map[string]int)
	lastSeen := make(map[string]int)
	var ordered []string
	for i, f := range c.frames[start:] {
		for _, t := range f.Topics {
			if _, ok := counts[t]; !ok {
				ordered = append(ordered, t)
			}
			counts[t]++
			lastSeen[t] = i
		}
	}
	c.summary = strings.Join(ordered, ", ")

	ranked := append([]string(nil), ordered...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return lastSeen[a] > lastSeen[b]
	})
	if len(ranked) > keyTopicCount {
		ranked = ranked[:keyTopicCount]
	}
	c.keyTopics = ranked
}

// Top returns the most recent frame, or nil.
func (c *Context) Top() *ResultFrame {
	return c.Frame(0)
}

// Frame returns the n-th most recent frame (0 is the top), or nil.
func (c *Context) Frame(n int) *ResultFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := len(c.frames) - 1 - n
	if n < 0 || i < 0 {
		return nil
	}
	return c.frames[i]
}

// Len returns the number of frames held.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.frames)
}

// Summarize returns the rolling summary: the topics of the last frames in
// first-seen order.
func (c *Context) Summarize() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.summary
}

// KeyTopics returns up to five topics by frequency, most recent first on ties.
func (c *Context) KeyTopics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.keyTopics...)
}

// Interactions returns the last n questions with their SQL, oldest first.
func (c *Context) Interactions(n int) []prompts.Interaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := max(0, len(c.frames)-n)
	out := make([]prompts.Interaction, 0, len(c.frames)-start)
	for _, f := range c.frames[start:] {
		out = append(out, prompts.Interaction{Question: f.UserQuery, SQL: f.SQL, RowCount: f.Len()})
	}
	return out
}

// Clear drops every frame.
func (c *Context) Clear() {
	c.mu.Lock()
	c.frames = nil
	c.summary = ""
	c.keyTopics = nil
	hook := c.onClear
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
}
