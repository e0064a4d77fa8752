package txns

import (
	"strconv"
	"strings"

	"github.com/Blackdeer1524/relcore/src/pkg/assert"
	"github.com/Blackdeer1524/relcore/src/pkg/common"
	"github.com/Blackdeer1524/relcore/src/pkg/optional"
)

const resourceSeparator = "/"

// DatabaseResource is the root of every lock hierarchy.
const DatabaseResource = "database"

// ResourceName is a path from the root of the hierarchy (the database)
// through tables down to pages. It is comparable and can be used as a map
// key.
type ResourceName struct {
	path string
}

func NewResourceName(root string, segments ...string) ResourceName {
	n := ResourceName{path: checkedSegment(root)}
	for _, s := range segments {
		n = n.Child(s)
	}
	return n
}

func TableResource(table common.TableID) ResourceName {
	return NewResourceName(DatabaseResource, TableSegment(table))
}

func PageResource(page common.PageIdentity) ResourceName {
	return TableResource(page.TableID).Child(PageSegment(page.PageID))
}

func TableSegment(table common.TableID) string {
	return "table" + strconv.FormatUint(uint64(table), 10)
}

func PageSegment(page common.PageID) string {
	return "page" + strconv.FormatUint(uint64(page), 10)
}

func checkedSegment(s string) string {
	assert.Assert(s != "", "empty resource name segment")
	assert.Assert(
		!strings.Contains(s, resourceSeparator),
		"resource name segment %q contains %q",
		s,
		resourceSeparator,
	)
	return s
}

func (n ResourceName) Child(segment string) ResourceName {
	assert.Assert(!n.IsNil(), "child of a nil resource name")
	return ResourceName{path: n.path + resourceSeparator + checkedSegment(segment)}
}

// Parent returns the name with the last segment removed. The root has no
// parent.
func (n ResourceName) Parent() optional.Optional[ResourceName] {
	i := strings.LastIndex(n.path, resourceSeparator)
	if i < 0 {
		return optional.None[ResourceName]()
	}
	return optional.Some(ResourceName{path: n.path[:i]})
}

func (n ResourceName) Segments() []string {
	if n.IsNil() {
		return nil
	}
	return strings.Split(n.path, resourceSeparator)
}

// Last returns the final segment of the path.
func (n ResourceName) Last() string {
	return n.path[strings.LastIndex(n.path, resourceSeparator)+1:]
}

func (n ResourceName) Depth() int {
	if n.IsNil() {
		return 0
	}
	return strings.Count(n.path, resourceSeparator) + 1
}

// IsDescendantOf reports whether n lies strictly below other.
func (n ResourceName) IsDescendantOf(other ResourceName) bool {
	return !other.IsNil() && strings.HasPrefix(n.path, other.path+resourceSeparator)
}

func (n ResourceName) IsNil() bool {
	return n.path == ""
}

func (n ResourceName) String() string {
	return n.path
}

// Compare orders names lexicographically by path, which places every
// ancestor before its descendants.
func (n ResourceName) Compare(other ResourceName) int {
	return strings.Compare(n.path, other.path)
}
