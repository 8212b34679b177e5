package main

import "github.com/tinyrange/dtboot/internal/iomap"

func openDevMem(path string) (iomap.Mapper, func(), error) {
	m, err := iomap.OpenDevMem(path)
	if err != nil {
		return nil, nil, err
	}
	return m, func() { m.Close() }, nil
}
