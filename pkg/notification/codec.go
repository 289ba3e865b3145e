package notification

import (
	"errors"
	"strconv"
	"time"
)

// ErrInvalidTarget is returned when a target names neither or both of a
// topic and a device token.
var ErrInvalidTarget = errors.New("target must name exactly one of topic or device token")

// Encode builds the wire message for req addressed to target, stamped with
// the current time.
func Encode(req NotificationRequest, target Target) (WireMessage, error) {
	return EncodeAt(req, target, time.Now())
}

// EncodeAt is Encode with an explicit clock.
//
// type and timestamp are always set; title, body and imageUrl only when
// non-empty. Extra is merged last, so caller keys shadow generated ones.
func EncodeAt(req NotificationRequest, target Target, now time.Time) (WireMessage, error) {
	if !target.Valid() {
		return WireMessage{}, ErrInvalidTarget
	}

	data := make(map[string]string, len(req.Extra)+5)
	if req.Title != "" {
		data[KeyTitle] = req.Title
	}
	if req.Body != "" {
		data[KeyBody] = req.Body
	}
	if req.ImageURL != "" {
		data[KeyImageURL] = req.ImageURL
	}
	data[KeyType] = req.Kind.String()
	data[KeyTimestamp] = strconv.FormatInt(now.UnixMilli(), 10)

	for k, v := range req.Extra {
		data[k] = v
	}

	return WireMessage{
		Topic: target.Topic,
		Token: target.Token,
		Data:  data,
	}, nil
}
