// Package notify provides stampauth.Notifier implementations: structured
// logging, email delivery over AWS SES, and event publishing over NATS.
//
// Only delivery notifiers (SES) ever see the one-time link under
// stampauth.LinkKey. Log and bus notifiers strip it.
package notify

import (
	"context"
	"sort"

	"github.com/MrEthical07/stampauth"
)

// Only forwards the listed events to n and drops the rest.
func Only(n stampauth.Notifier, events ...string) stampauth.Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, ev := range events {
		allowed[ev] = struct{}{}
	}
	return stampauth.NotifierFunc(func(ctx context.Context, event string, payload map[string]string) {
		if _, ok := allowed[event]; ok {
			n.Emit(ctx, event, payload)
		}
	})
}

func redact(payload map[string]string) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == stampauth.LinkKey {
			continue
		}
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
