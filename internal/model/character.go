package model

import "time"

// CharacterInput is the payload submitted to create a character. Field-level
// validation beyond the basics happens upstream; the orchestration layer only
// needs the record shape.
type CharacterInput struct {
	Name             string              `json:"name" validate:"required,min=1,max=80"`
	Age              int                 `json:"age" validate:"required,min=18,max=99"`
	Gender           string              `json:"gender" validate:"required,oneof=Female Male Non-binary"`
	Description      string              `json:"description,omitempty"`
	ShortDescription string              `json:"shortDescription,omitempty"`
	AudioPack        string              `json:"audioPack,omitempty"`
	Physical         *PhysicalAttributes `json:"physical,omitempty"`
	Personality      *PersonalityInput   `json:"personality,omitempty"`
	ExtraDetails     map[string]string   `json:"extraDetails,omitempty"`
}

// PhysicalAttributes holds the appearance fields forwarded to the image
// backend.
type PhysicalAttributes struct {
	Ethnicity  string `json:"ethnicity,omitempty" bson:"ethnicity,omitempty"`
	BodyType   string `json:"bodyType,omitempty" bson:"bodyType,omitempty"`
	HairColor  string `json:"hairColor,omitempty" bson:"hairColor,omitempty"`
	HairStyle  string `json:"hairStyle,omitempty" bson:"hairStyle,omitempty"`
	EyeColor   string `json:"eyeColor,omitempty" bson:"eyeColor,omitempty"`
	SkinColor  string `json:"skinColor,omitempty" bson:"skinColor,omitempty"`
	MuscleTone string `json:"muscleTone,omitempty" bson:"muscleTone,omitempty"`
	Height     string `json:"height,omitempty" bson:"height,omitempty"`
}

// PersonalityInput carries the trait keywords used by the personality and
// image backends.
type PersonalityInput struct {
	Personality  string `json:"personality,omitempty" bson:"personality,omitempty"`
	Voice        string `json:"voice,omitempty" bson:"voice,omitempty"`
	Hobby        string `json:"hobby,omitempty" bson:"hobby,omitempty"`
	Occupation   string `json:"occupation,omitempty" bson:"occupation,omitempty"`
	Relationship string `json:"relationship,omitempty" bson:"relationship,omitempty"`
	Pose         string `json:"pose,omitempty" bson:"pose,omitempty"`
	PoseCategory string `json:"poseCategory,omitempty" bson:"poseCategory,omitempty"`
}

// Character is the primary domain record created by the character-creation
// pipeline.
type Character struct {
	ID               string            `json:"id" bson:"_id"`
	DisplayID        string            `json:"displayId" bson:"displayId"`
	OwnerID          string            `json:"ownerId" bson:"ownerId"`
	Name             string            `json:"name" bson:"name"`
	Age              int               `json:"age" bson:"age"`
	Gender           string            `json:"gender" bson:"gender"`
	Description      string            `json:"description,omitempty" bson:"description,omitempty"`
	ShortDescription string            `json:"shortDescription,omitempty" bson:"shortDescription,omitempty"`
	DisplayImageURLs []string          `json:"displayImageUrls" bson:"displayImageUrls"`
	AudioPack        string            `json:"audioPack,omitempty" bson:"audioPack,omitempty"`
	ExtraDetails     map[string]string `json:"extraDetails,omitempty" bson:"extraDetails,omitempty"`
	CreatedAt        time.Time         `json:"createdAt" bson:"createdAt"`
}

// CharacterProfile is the linked record holding appearance and trait data,
// created alongside the core character document.
type CharacterProfile struct {
	CharacterID        string              `json:"characterId" bson:"characterId"`
	Physical           *PhysicalAttributes `json:"physical,omitempty" bson:"physical,omitempty"`
	Personality        *PersonalityInput   `json:"personality,omitempty" bson:"personality,omitempty"`
	PersonalityDetails string              `json:"personalityDetails,omitempty" bson:"personalityDetails,omitempty"`
}

// CharacterStats is the linked counters record created with each character.
type CharacterStats struct {
	CharacterID  string `json:"characterId" bson:"characterId"`
	MessageCount int64  `json:"messageCount" bson:"messageCount"`
	MediaCount   int64  `json:"mediaCount" bson:"mediaCount"`
	LikeCount    int64  `json:"likeCount" bson:"likeCount"`
}

// Media is a produced image or video linked to a character.
type Media struct {
	ID          string            `json:"id" bson:"_id"`
	CharacterID string            `json:"characterId" bson:"characterId"`
	OwnerID     string            `json:"ownerId" bson:"ownerId"`
	MediaType   MediaType         `json:"mediaType" bson:"mediaType"`
	URL         string            `json:"url" bson:"url"`
	Prompt      string            `json:"prompt,omitempty" bson:"prompt,omitempty"`
	DurationSec int               `json:"durationSec,omitempty" bson:"durationSec,omitempty"`
	Params      map[string]string `json:"params,omitempty" bson:"params,omitempty"`
	CreatedAt   time.Time         `json:"createdAt" bson:"createdAt"`
}
