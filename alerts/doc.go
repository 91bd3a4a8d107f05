// Package alerts fans operator notifications out to Slack, Discord, and
// a generic JSON webhook. Channels are configured by URL; empty URLs are
// skipped. Delivery is best effort and never blocks business logic on a
// channel failure.
package alerts
