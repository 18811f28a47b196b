package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	once sync.Once
	node *snowflake.Node
)

// Init задаёт номер узла генератора; вызывать до первого Next
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	once.Do(func() {})
	node = n
	return nil
}

// Next новый int64 идентификатор
func Next() int64 {
	once.Do(func() {
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
		node = n
	})
	return node.Generate().Int64()
}
