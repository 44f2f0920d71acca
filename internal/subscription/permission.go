package subscription

import (
	"github.com/augmentos/cloud/internal/appstore"
	"github.com/augmentos/cloud/pkg/message"
)

// requiredPermissions maps stream base types to the permission an app must
// declare. Streams not listed require none. Language-parameterized
// descriptors inherit their base type's mapping.
var requiredPermissions = map[string]string{
	message.StreamAudioChunk:            appstore.PermissionMicrophone,
	message.StreamTranscription:         appstore.PermissionMicrophone,
	message.StreamTranslation:           appstore.PermissionMicrophone,
	message.StreamVad:                   appstore.PermissionMicrophone,
	message.StreamLocationUpdate:        appstore.PermissionLocation,
	message.StreamCalendarEvent:         appstore.PermissionCalendar,
	message.StreamPhoneNotification:     appstore.PermissionNotifications,
	message.StreamNotificationDismissed: appstore.PermissionNotifications,
}

// RequiredPermission returns the permission a descriptor needs, if any.
func RequiredPermission(stream string) (string, bool) {
	p, ok := requiredPermissions[message.BaseStream(stream)]
	return p, ok
}

// FilterByPermission partitions requested descriptors into allowed and
// rejected against the app's declared permissions. It runs at subscription
// update time, never at broadcast time, so stored sets contain only admitted
// descriptors.
func FilterByPermission(app *appstore.App, requested []string) (allowed []string, rejected []message.PermissionDetail) {
	for _, stream := range requested {
		required, needs := RequiredPermission(stream)
		if !needs || app.HasPermission(required) {
			allowed = append(allowed, stream)
			continue
		}
		rejected = append(rejected, message.PermissionDetail{
			Stream:             stream,
			RequiredPermission: required,
			Message:            "app has not declared the " + required + " permission",
		})
	}
	return allowed, rejected
}
