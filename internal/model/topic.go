package model

import "strings"

const (
	TopicVitals     = "vitals"
	TopicAdmissions = "admissions"
	TopicDischarges = "discharges"

	roomTopicPrefix = "room-"
)

// Family classifies a topic string. Any string is a valid topic; unknown ones are FamilyOther.
type Family int

const (
	FamilyOther Family = iota
	FamilyVitals
	FamilyAdmissions
	FamilyDischarges
	FamilyRoom
)

func FamilyOf(topic string) Family {
	switch {
	case topic == TopicVitals:
		return FamilyVitals
	case topic == TopicAdmissions:
		return FamilyAdmissions
	case topic == TopicDischarges:
		return FamilyDischarges
	case strings.HasPrefix(topic, roomTopicPrefix) && len(topic) > len(roomTopicPrefix):
		return FamilyRoom
	default:
		return FamilyOther
	}
}

func RoomTopic(room string) string {
	return roomTopicPrefix + room
}

// RoomFromTopic returns the room number of a room-<N> topic.
func RoomFromTopic(topic string) (string, bool) {
	if FamilyOf(topic) != FamilyRoom {
		return "", false
	}
	return strings.TrimPrefix(topic, roomTopicPrefix), true
}
