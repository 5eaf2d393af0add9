package main

import (
	"flag"
	"log"

	"golang.org/x/xerrors"

	"github.com/netlab-tools/ova2gns3a/ova"
)

var (
	destDir = flag.String("d", ".", "destination directory for extracted images and the appliance file (must exist)")
	name    = flag.String("name", "", "override the appliance name from the OVF descriptor")
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	flag.Parse()
	if flag.NArg() != 1 {
		return xerrors.New("usage: ova2gns3a [-d dir] [-name name] <appliance.ova>")
	}

	c := ova.NewConverter(
		ova.WithDestDir(*destDir),
		ova.WithName(*name),
	)
	return c.Convert(flag.Arg(0))
}
