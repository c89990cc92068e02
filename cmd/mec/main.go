package main

import (
	"os"

	"github.com/ethereum-optimism/infra/mec"
	"github.com/ethereum-optimism/infra/mec/registry"
)

func main() {
	mec.RunApp(mec.NewApp(registry.Default), os.Args)
}
