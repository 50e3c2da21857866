package block

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evannetwork/ui-angular-core-sub000/lib/block/ethereum"
	"github.com/evannetwork/ui-angular-core-sub000/lib/config"
)

var _ Chain = (*ethereum.Ethereum)(nil)

func TestInitWithoutNodes(t *testing.T) {
	m, err := Init([]config.BlockConfig{{Name: "offline"}}, logrus.New())
	require.NoError(t, err)
	assert.Empty(t, m)

	End(m)
}
