package server

import "time"

// Tick cadences. Five independent jobs, no drift compensation.
const (
	frameInterval  = 33 * time.Millisecond
	secondInterval = time.Second
	skinInterval   = 10 * time.Second
	sweepInterval  = 5 * time.Minute
	purgeInterval  = 24 * time.Hour
)

// Flag state machine tuning.
const (
	grabRadius         = 50.0
	flagFallStep       = 2
	flagFallFloor      = -10000
	flagIdleResetTicks = 3000
	attackScatterRange = 500
	attackLift         = 600
	dropLift           = 100
)

// Session and room lifecycle.
const (
	maxSessionID       = 4294967294
	maxSessionsPerIP   = 4
	poseValidity       = 100
	emptySweepLimit    = 5
	chatRetention      = 72 * time.Hour
	skinCatchUpDelay   = 500 * time.Millisecond
	announcementTimer  = 300
	adminCommandPrefix = "/"
)

// Chat throttle. Cooldown decays by one per second toward zero.
const (
	initialChatCooldown = 15
	chatCooldownCost    = 3
	chatCooldownLimit   = 10
	maxChatRunes        = 200
)

// Name registration bounds.
const (
	minNameRunes = 3
	maxNameRunes = 14
	reservedName = "server"
)

// Level selector value that means "join an existing private room by id".
const customLevelSelector = 0
