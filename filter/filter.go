package filter

import (
	"fmt"
	"regexp"

	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/omega"
)

type Filterer interface {
	ShouldIgnore(*omega.Channel) bool
}

// Filter removes ignored channels from every block. Blocks left without
// channels are dropped.
func Filter(blocks []*omega.ChannelList, filters []Filterer) []*omega.ChannelList {
	var out []*omega.ChannelList
	for _, block := range blocks {
		var keep []*omega.Channel
		for _, c := range block.Channels {
			if ignored(c, filters) {
				glog.V(1).Infof("filtered out %s", c.Name)
				continue
			}
			keep = append(keep, c)
		}
		if len(keep) == 0 {
			glog.Infof("all channels of block %q filtered out, dropping it", block.Key)
			continue
		}
		block.Channels = keep
		out = append(out, block)
	}
	return out
}

func ignored(c *omega.Channel, filters []Filterer) bool {
	for _, f := range filters {
		if f.ShouldIgnore(c) {
			return true
		}
	}
	return false
}

// FilterPattern keeps channels matching Include (when set) that do not
// match Exclude (when set).
type FilterPattern struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

func NewFilterPattern(include, exclude string) (*FilterPattern, error) {
	f := &FilterPattern{}
	var err error
	if include != "" {
		if f.Include, err = regexp.Compile(include); err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %s", include, err)
		}
	}
	if exclude != "" {
		if f.Exclude, err = regexp.Compile(exclude); err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %s", exclude, err)
		}
	}
	return f, nil
}

func (f *FilterPattern) ShouldIgnore(c *omega.Channel) bool {
	if f.Include != nil && !f.Include.MatchString(c.Name) {
		return true
	}
	if f.Exclude != nil && f.Exclude.MatchString(c.Name) {
		return true
	}
	return false
}
