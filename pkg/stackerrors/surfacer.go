// Package stackerrors prints stack resource failures once per follow.
package stackerrors

import (
	"fmt"
	"net/url"

	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/deploydata"
	"github.com/attini-cloud-solutions/attini-cli-sub000/pkg/render"
)

// Surfacer prints each distinct stack error at most once
type Surfacer struct {
	console       *render.Console
	defaultRegion string
	seen          map[string]bool
	printed       bool
}

// NewSurfacer creates a surfacer; defaultRegion is used for errors recorded without one
func NewSurfacer(console *render.Console, defaultRegion string) *Surfacer {
	return &Surfacer{
		console:       console,
		defaultRegion: defaultRegion,
		seen:          make(map[string]bool),
	}
}

// Surface prints the stack errors recorded in the deploy data that were not printed before
func (s *Surfacer) Surface(data deploydata.DeployData) int {
	return s.SurfaceErrors(data.InitStackErrors)
}

// SurfaceErrors prints the given errors that were not printed before and returns how many were new
func (s *Surfacer) SurfaceErrors(errs []deploydata.StackError) int {
	count := 0
	for _, e := range errs {
		if e.Region == "" {
			e.Region = s.defaultRegion
		}
		if s.seen[e.Key()] {
			continue
		}
		s.seen[e.Key()] = true

		s.console.Block(render.KindStackError, fmt.Sprintf("Stack error in %s", e.StackName), [][2]string{
			{"stackName", e.StackName},
			{"resourceName", e.ResourceName},
			{"resourceStatus", e.ResourceStatus},
			{"error", e.Error},
			{"region", e.Region},
			{"link", ConsoleLink(e.Region, e.StackName)},
		})
		s.printed = true
		count++
	}
	return count
}

// Printed reports whether any stack error has been printed
func (s *Surfacer) Printed() bool {
	return s.printed
}

// ConsoleLink returns a link to the CloudFormation console filtered to a stack
func ConsoleLink(region, stackName string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/cloudformation/home?region=%s#/stacks?filteringText=%s&filteringStatus=active&viewNested=true",
		region, region, url.QueryEscape(stackName))
}
