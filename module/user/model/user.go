package model

import (
	"time"
)

// Status
const (
	UserNormal   int32 = 0
	UserBanned   int32 = 1
	UserClosed   int32 = 2
	UserReadOnly int32 = 3
)

// User 用户主档。配对、同步只读取其中的公开字段。
type User struct {
	UserID   string `bson:"user_id" json:"userId"`    // 全局唯一、不可变的用户ID
	Nickname string `bson:"nickname" json:"nickname"` // 显示名
	FaceURL  string `bson:"face_url" json:"faceUrl"`  // 头像URL
	Bio      string `bson:"bio,omitempty" json:"bio,omitempty"`

	Status    int32 `bson:"status,omitempty" json:"status"` // 0=正常,1=禁用,2=注销,3=冻结只读
	IsDeleted bool  `bson:"is_deleted,omitempty" json:"-"`

	Phone string `bson:"phone,omitempty" json:"-"`
	Email string `bson:"email,omitempty" json:"-"`

	CreateTime time.Time `bson:"create_time" json:"createTime"`
	UpdateTime time.Time `bson:"update_time" json:"updateTime"`
}

func (u *User) GetTableName() string {
	return "user"
}

// Active reports whether the account may authorize devices.
func (u *User) Active() bool {
	return !u.IsDeleted && (u.Status == UserNormal || u.Status == UserReadOnly)
}

func (u *User) Public() PublicProfile {
	return PublicProfile{UserID: u.UserID, Nickname: u.Nickname, FaceURL: u.FaceURL}
}

// PublicProfile is the minimal view shown to a device that is not yet
// signed in, e.g. a secondary device waiting on a pairing challenge.
type PublicProfile struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	FaceURL  string `json:"faceUrl,omitempty"`
}
