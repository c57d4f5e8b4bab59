package model

import (
	"time"

	usermodel "PPLink/module/user/model"
)

type State string

const (
	StatePending    State = "pending"
	StateAuthorized State = "authorized"
	StateRedeemed   State = "redeemed"
	StateExpired    State = "expired"
)

// Challenge 二维码配对挑战。Token 是二维码内容，ID 供副设备轮询/兑换。
type Challenge struct {
	ID                string    `bson:"_id" json:"challengeId"`
	Token             string    `bson:"token" json:"-"`
	State             State     `bson:"state" json:"state"`
	AuthorizingUserID string    `bson:"authorizing_user_id,omitempty" json:"-"`
	CreatedAt         time.Time `bson:"created_at" json:"createdAt"`
	ExpiresAt         time.Time `bson:"expires_at" json:"expiresAt"`
	UpdatedAt         time.Time `bson:"updated_at" json:"-"`
}

func (c *Challenge) GetTableName() string {
	return "pairing_challenge"
}

// Expired reports whether the TTL has lapsed at now, regardless of whether
// the store has purged the record yet.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// EffectiveState is the state as seen at now: a lapsed pending or authorized
// challenge reads as expired.
func (c *Challenge) EffectiveState(now time.Time) State {
	if c.Expired(now) && (c.State == StatePending || c.State == StateAuthorized) {
		return StateExpired
	}
	return c.State
}

// Issued is returned to the secondary device after issue.
type Issued struct {
	ChallengeID string    `json:"challengeId"`
	Payload     string    `json:"payload"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// StatusView is what a polling secondary device sees.
type StatusView struct {
	ChallengeID  string                   `json:"challengeId"`
	State        State                    `json:"state"`
	ExpiresAt    time.Time                `json:"expiresAt"`
	AuthorizedBy *usermodel.PublicProfile `json:"authorizedBy,omitempty"`
}
