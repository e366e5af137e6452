package server

import "flagfall/server/internal/net/proto"

// session is one accepted connection. It exists from upgrade until
// close, whether or not the client ever registers a player name.
type session struct {
	id  uint32
	ip  string
	sub *subscriber
}

// playerSession is a session that registered a name and joined a room.
//
// validity is the liveness credit: set to poseValidity on every pose
// report, decremented once per frame tick. A player whose credit runs
// out after having reported at least one pose is force-closed.
type playerSession struct {
	*session

	name     string
	validity int
	pose     *proto.Pose

	skin      []byte
	skinName  string
	skinDirty bool
}

// markPose stores the latest reported pose and refreshes liveness.
func (p *playerSession) markPose(pose proto.Pose) {
	pose.SessionID = p.id
	p.pose = &pose
	p.validity = poseValidity
}

// markSkin stores a skin payload for the next skin push.
func (p *playerSession) markSkin(data []byte, name string) {
	p.skin = data
	p.skinName = name
	p.skinDirty = true
}
