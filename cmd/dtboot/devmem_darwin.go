package main

import (
	"errors"

	"github.com/tinyrange/dtboot/internal/iomap"
)

func openDevMem(string) (iomap.Mapper, func(), error) {
	return nil, nil, errors.New("mapper kind devmem is only available on linux")
}
