// Package thread reconstructs reply threads from a list of archived
// emails: resolving each message's parent, assigning it to a thread,
// and recomputing traversal order and nesting depth across the whole
// thread after every append.
package thread

import "listarchive/idcodec"

// Ref returns the message-id this message replies to, derived from its
// In-Reply-To and References headers. It does no I/O and never fails:
// a message with neither header, or only blank ones, yields ("", false).
func Ref(inReplyTo, references string) (id string, ok bool) {
	return idcodec.GetRef(inReplyTo, references)
}
