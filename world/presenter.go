package world

import (
	"github.com/wfunc/srtgame/logger"
	"github.com/wfunc/srtgame/protocol"
)

// LogPresenter is the presenter for a headless server: it only logs.
type LogPresenter struct{}

func (LogPresenter) Create(id string) {
	logger.Log.Debugf("Added player instance %s", id)
}

func (LogPresenter) Remove(id string) {
	logger.Log.Debugf("Removed player instance %s", id)
}

func (LogPresenter) Update(id string, move protocol.Vector2) {
	logger.Log.Debugf("Player %s intent (%g, %g)", id, move.X, move.Y)
}
