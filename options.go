package azs

import (
	"fmt"
	"strings"
)

// ContentHeaders are the standard HTTP headers stored with a blob.
type ContentHeaders struct {
	ContentType        *string
	ContentEncoding    *string
	ContentLanguage    *string
	ContentDisposition *string
}

// BlockBlobOptions are the object level options sent with a single-shot put
// or a block list commit.
type BlockBlobOptions struct {
	Headers    ContentHeaders
	Tags       map[string]string
	Metadata   map[string]string
	IfTags     *string
	LeaseID    *string
	AccessTier *string
}

// PageBlobOptions are sent when a page blob is created.
type PageBlobOptions struct {
	Headers        ContentHeaders
	Tags           map[string]string
	Metadata       map[string]string
	LeaseID        *string
	SequenceNumber *int64
}

// AppendBlobOptions are sent when an append blob is created.
type AppendBlobOptions struct {
	Headers  ContentHeaders
	Tags     map[string]string
	Metadata map[string]string
	LeaseID  *string
	IfTags   *string
}

// Conditions restrict a call to a leased blob or to blobs matching a tag predicate.
type Conditions struct {
	LeaseID *string
	IfTags  *string
}

// AppendConditions guard a single append.
type AppendConditions struct {
	Conditions
	// MaxSize fails the append if the blob would grow beyond it.
	MaxSize *int64
	// AppendPosition fails the append unless the blob is exactly this long.
	AppendPosition *int64
}

// DeleteOptions select what a delete removes. Snapshot and VersionID
// address one snapshot or version instead of the base blob.
type DeleteOptions struct {
	Conditions
	// Snapshots is "include" to delete the blob with its snapshots or
	// "only" to delete just the snapshots.
	Snapshots *string
	Snapshot  *string
	VersionID *string
	// Permanent skips soft delete. Only valid for a snapshot or version.
	Permanent bool
}

type TierOptions struct {
	Conditions
	RehydratePriority *string
	Snapshot          *string
	VersionID         *string
}

type SnapshotOptions struct {
	Conditions
	Metadata map[string]string
}

// optionSetter pairs an option's presence with the code that applies it.
type optionSetter struct {
	present bool
	apply   func()
}

// setIf applies fn to *v when v is non-nil.
func setIf[T any](v *T, fn func(T)) optionSetter {
	return optionSetter{
		present: v != nil,
		apply: func() {
			fn(*v)
		},
	}
}

// setIfAny applies fn when m has at least one entry.
func setIfAny[K comparable, V any](m map[K]V, fn func(map[K]V)) optionSetter {
	return optionSetter{
		present: len(m) > 0,
		apply: func() {
			fn(m)
		},
	}
}

// applyOptions runs each present setter once, in order. Absent options are
// left at their zero value so they are omitted from the request.
func applyOptions(setters ...optionSetter) int {
	var n int
	for _, s := range setters {
		if !s.present {
			continue
		}
		s.apply()
		n++
	}
	return n
}

// ParseKeyValues turns a list of KEY=VALUE strings into a map. Later
// entries win over earlier ones with the same key. A nil map is returned
// for an empty list.
func ParseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid KEY=VALUE: no `=` found in %q", p)
		}
		if k == "" {
			return nil, fmt.Errorf("invalid KEY=VALUE: empty key in %q", p)
		}
		out[k] = v
	}
	return out, nil
}
