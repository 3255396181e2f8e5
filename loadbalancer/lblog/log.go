// Package lblog supplies the load balancer's default logger, following the
// same pattern skipper's own packages use: a logrus.FieldLogger is always
// accepted through an Options struct, and this package only provides a
// sensible default when the caller leaves it nil.
package lblog

import "github.com/sirupsen/logrus"

// Default returns a logrus.FieldLogger tagged with component=loadbalancer,
// for callers that don't wire in their own.
func Default() logrus.FieldLogger {
	l := logrus.New()
	return l.WithField("component", "loadbalancer")
}
